package errors

import (
	"errors"
	"fmt"
	"strconv"
	"testing"

	"github.com/stretchr/testify/suite"
)

type ErrorTestSuite struct {
	suite.Suite
}

func TestErrorSuite(t *testing.T) {
	suite.Run(t, new(ErrorTestSuite))
}

func (suite *ErrorTestSuite) TestNewError() {
	err := New(ErrCodeInvalidState, "series is empty")
	suite.NotNil(err)
	suite.Equal(ErrCodeInvalidState, err.Code)
	suite.Equal("series is empty", err.Message)
	suite.Nil(err.Cause)
}

func (suite *ErrorTestSuite) TestNewfError() {
	err := Newf(ErrCodeInvalidParameter, "invalid interval: %d", 0)
	suite.Equal("invalid interval: 0", err.Message)
	suite.Nil(err.Cause)
}

func (suite *ErrorTestSuite) TestWrapfError() {
	cause := errors.New("connection reset")
	err := Wrapf(ErrCodeSourceUnavailable, cause, "page at %d failed", 100)
	suite.Equal(ErrCodeSourceUnavailable, err.Code)
	suite.Equal("page at 100 failed", err.Message)
	suite.Equal(cause, err.Cause)
}

func (suite *ErrorTestSuite) TestErrorString() {
	suite.Equal("[102] series is empty", New(ErrCodeInvalidState, "series is empty").Error())

	cause := errors.New("HTTP 503")
	err := Wrap(ErrCodeSourceUnavailable, "fetch failed", cause)
	suite.Equal("[300] fetch failed: HTTP 503", err.Error())
}

func (suite *ErrorTestSuite) TestUnwrap() {
	cause := errors.New("underlying error")
	err := Wrap(ErrCodeDatasetIO, "save failed", cause)
	suite.Equal(cause, err.Unwrap())
	suite.True(Is(err, cause))
	suite.Nil(New(ErrCodeDatasetIO, "x").Unwrap())
}

func (suite *ErrorTestSuite) TestGetCode() {
	suite.Equal(ErrCodeRateLimited, GetCode(New(ErrCodeRateLimited, "throttled")))
	suite.Equal(ErrCodeUnknown, GetCode(errors.New("standard error")))

	// Outermost code wins
	inner := New(ErrCodeSourceUnavailable, "fetch failed")
	outer := Wrap(ErrCodePublishFailed, "publish failed", inner)
	suite.Equal(ErrCodePublishFailed, GetCode(outer))

	// Code survives fmt wrapping
	wrapped := fmt.Errorf("run failed: %w", inner)
	suite.True(HasCode(wrapped, ErrCodeSourceUnavailable))
}

func (suite *ErrorTestSuite) TestAsError() {
	err := fmt.Errorf("context: %w", New(ErrCodeInvalidConfiguration, "bad config"))

	var coded *Error
	suite.True(As(err, &coded))
	suite.Equal(ErrCodeInvalidConfiguration, coded.Code)
}

func (suite *ErrorTestSuite) TestMalformedRecordError() {
	_, parseErr := strconv.ParseFloat("abc", 64)
	err := NewMalformedRecordError(160, "close", "abc", parseErr)

	suite.Equal(int64(160), err.Timestamp)
	suite.Equal("close", err.Field)
	suite.Contains(err.Error(), `field close="abc"`)
	suite.ErrorIs(err, strconv.ErrSyntax)
	suite.True(IsMalformedRecordError(fmt.Errorf("merge: %w", err)))
	suite.Equal(ErrCodeMalformedRecord, GetCode(err))
	suite.False(IsMalformedRecordError(nil))
	suite.False(IsMalformedRecordError(New(ErrCodeInvalidState, "x")))
}

func (suite *ErrorTestSuite) TestIsFatal() {
	suite.False(IsFatal(nil))
	suite.False(IsFatal(NewMalformedRecordError(1, "open", "", nil)))
	suite.True(IsFatal(New(ErrCodeInvalidState, "empty")))
	suite.True(IsFatal(New(ErrCodeRateLimited, "throttled")))
	suite.True(IsFatal(errors.New("anything else")))
}

func (suite *ErrorTestSuite) TestErrorCodeValues() {
	suite.Equal(ErrorCode(1), ErrCodeUnknown)
	suite.Equal(ErrorCode(100), ErrCodeInvalidParameter)
	suite.Equal(ErrorCode(200), ErrCodeDatasetIO)
	suite.Equal(ErrorCode(300), ErrCodeSourceUnavailable)
	suite.Equal(ErrorCode(400), ErrCodePublishFailed)
}
