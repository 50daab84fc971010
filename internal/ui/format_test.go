package ui

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatRate(t *testing.T) {
	tests := []struct {
		want  string
		input float64
	}{
		{input: 0, want: "0/s"},
		{input: -1, want: "0/s"},
		{input: 2.5, want: "2.50/s"},
		{input: 15, want: "15.0/s"},
		{input: 512, want: "512/s"},
		{input: 14302.4, want: "14,302/s"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatRate(tt.input))
		})
	}
}

func TestFormatETA(t *testing.T) {
	tests := []struct {
		want  string
		input time.Duration
	}{
		{input: 0, want: "--"},
		{input: -1 * time.Second, want: "--"},
		{input: 30 * time.Second, want: "30s"},
		{input: 90 * time.Second, want: "1m 30s"},
		{input: 3661 * time.Second, want: "1h 01m 01s"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatETA(tt.input))
		})
	}
}

func TestFormatCount(t *testing.T) {
	tests := []struct {
		want  string
		input int64
	}{
		{input: 0, want: "0"},
		{input: 999, want: "999"},
		{input: 1000, want: "1,000"},
		{input: 1000000, want: "1,000,000"},
		{input: -1000, want: "-1,000"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatCount(tt.input))
		})
	}
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0s", FormatDuration(0))
	assert.Equal(t, "3m 17s", FormatDuration(3*time.Minute+17*time.Second))
	assert.Equal(t, "1h 02m 03s", FormatDuration(1*time.Hour+2*time.Minute+3*time.Second))
}

func TestCeilSeconds(t *testing.T) {
	assert.Equal(t, int64(0), CeilSeconds(0))
	assert.Equal(t, int64(1), CeilSeconds(time.Millisecond))
	assert.Equal(t, int64(2), CeilSeconds(1500*time.Millisecond))
	assert.Equal(t, int64(3), CeilSeconds(3*time.Second))
}

func TestStripRoot(t *testing.T) {
	assert.Equal(t, "movies/a.mkv", StripRoot("/out", "/out/movies/a.mkv"))
	assert.Equal(t, "movies/a.mkv", StripRoot("/out/", "/out/movies/a.mkv"))
	assert.Equal(t, "/other/a.mkv", StripRoot("/out", "/other/a.mkv"))
	assert.Equal(t, "/out", StripRoot("/out", "/out"))
	assert.Equal(t, "/x", StripRoot("", "/x"))
}
