package errors_test

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xtls/xray-tun-core/common/errors"
	"github.com/xtls/xray-tun-core/common/log"
)

func TestErrorMessage(t *testing.T) {
	err := errors.New("dropping packet from ", "10.0.0.2")
	assert.Contains(t, err.Error(), "dropping packet from 10.0.0.2")
}

func TestErrorBaseChains(t *testing.T) {
	inner := stderrors.New("connection reset")
	err := errors.New("dispatch failed").Base(inner)
	assert.Contains(t, err.Error(), "dispatch failed")
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, inner, err.Unwrap())
}

func TestErrorSeverityDefaultsToInfo(t *testing.T) {
	err := errors.New("something happened")
	assert.Equal(t, log.Severity_Info, err.Severity())
}

func TestErrorSeverityLevels(t *testing.T) {
	assert.Equal(t, log.Severity_Debug, errors.New("x").AtDebug().Severity())
	assert.Equal(t, log.Severity_Warning, errors.New("x").AtWarning().Severity())
	assert.Equal(t, log.Severity_Error, errors.New("x").AtError().Severity())
}

// TestErrorSeverityTakesInnerIntoAccount: when the inner error is itself more severe, the
// outer error's reported severity should reflect the worse of the two.
func TestErrorSeverityTakesInnerIntoAccount(t *testing.T) {
	inner := errors.New("root cause").AtError()
	outer := errors.New("wrapping").Base(inner).AtDebug()
	assert.Equal(t, log.Severity_Error, outer.Severity())
}

func TestCauseUnwrapsToRoot(t *testing.T) {
	root := stderrors.New("root")
	wrapped := errors.New("mid").Base(root)
	outer := errors.New("outer").Base(wrapped)
	assert.Equal(t, root, errors.Cause(outer))
}

func TestCauseNil(t *testing.T) {
	assert.Nil(t, errors.Cause(nil))
}
