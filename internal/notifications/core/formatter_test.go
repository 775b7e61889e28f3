package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatter_Format(t *testing.T) {
	f := NewFormatter("")
	got := f.Format("Dana", "Sam Rivera", "https://g.example/review")

	want := "Hello Dana, this is America First, your new vehicle protection partner. " +
		"Please give us your feedback on Sam Rivera by clicking the link below:\n\nhttps://g.example/review"
	assert.Equal(t, want, got)
}

func TestFormatter_CustomCompany(t *testing.T) {
	f := NewFormatter("Acme Auto")
	assert.Contains(t, f.Format("A", "B", "L"), "this is Acme Auto,")
}

func TestFormatter_InsertsVerbatim(t *testing.T) {
	f := NewFormatter("")
	got := f.Format("", "<b>%s</b>", "")
	assert.Contains(t, got, "Hello , this is")
	assert.Contains(t, got, "feedback on <b>%s</b> by clicking")
	assert.True(t, len(got) > 0 && got[len(got)-2:] == "\n\n")
}
