package core

import "errors"

var (
	ErrInvalidSignature   = errors.New("invalid webhook signature")
	ErrInvalidToken       = errors.New("invalid verification token")
	ErrTokenExpired       = errors.New("verification token has expired")
	ErrOTPLockedOut       = errors.New("otp verification locked out")
	ErrOTPInvalid         = errors.New("otp code invalid or expired")
	ErrPhoneRequired      = errors.New("phone number is required")
	ErrPhoneNotParseable  = errors.New("phone number could not be parsed")
	ErrPhoneNotValid      = errors.New("phone number is not valid")
	ErrPhoneNotMobile     = errors.New("phone number is not a mobile number")
	ErrNoMethodEnabled    = errors.New("neither otp nor qr verification is enabled")
	ErrSendFailed         = errors.New("outbound message delivery failed")
	ErrBusinessPhoneEmpty = errors.New("business phone number is empty")
)
