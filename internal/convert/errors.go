package convert

import "fmt"

// Error はAPIレスポンスへ変換可能な変換処理エラーです。
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError は Error を作成します。コードは API のエラー分類（INVALID_INPUT 等）に対応します。
func NewError(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

func newError(code, message string, err error) *Error {
	return NewError(code, message, err)
}
