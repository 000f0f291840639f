package markerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError(t *testing.T) {
	err := New(KindMalformedPacket, "short buffer")
	assert.Equal(t, "short buffer", err.Error())

	wrapped := Wrap(err, KindInternal, "decode failed")
	assert.Equal(t, "decode failed: short buffer", wrapped.Error())
}

func TestGetKind(t *testing.T) {
	err := New(KindUnknownQosFlow, "no drb mapping")
	assert.Equal(t, KindUnknownQosFlow, GetKind(err))
	assert.Equal(t, KindUnknown, GetKind(errors.New("plain")))
}

func TestAttr(t *testing.T) {
	err := New(KindMalformedPacket, "short buffer")
	err = Attr(err, "qfi", 3)
	var e *Error
	assert.True(t, As(err, &e))
	assert.Equal(t, 3, e.Attributes["qfi"])
}

func TestAttrOnPlainError(t *testing.T) {
	err := Attr(errors.New("plain"), "k", "v")
	assert.Equal(t, KindInternal, GetKind(err))
}
