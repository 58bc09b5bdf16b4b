package jsruntime

import "github.com/edgestore/edgestore/internal/common/apperrors"

var (
	ErrInvalidJSFunction apperrors.Error = apperrors.New("invalid js function")
	ErrJSExecutionError  apperrors.Error = apperrors.New("js execution error")
	ErrJSRuntimeError    apperrors.Error = apperrors.New("js runtime error")
	ErrJSRuntimeTimeout  apperrors.Error = apperrors.New("js runtime timeout")
)
