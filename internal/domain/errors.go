package domain

import "errors"

var (
	ErrPersistenceFailure = errors.New("kayıt veritabanına yazılamadı")
	ErrDuplicateUsername  = errors.New("bu kullanıcı adına sahip bir kullanıcı zaten var")
	ErrInvalidUser        = errors.New("geçersiz kullanıcı")
	ErrUserNotFound       = errors.New("kullanıcı bulunamadı")
	ErrRoleNotFound       = errors.New("rol bulunamadı")

	ErrConcurrentModification = errors.New("eşzamanlı değişiklik tespit edildi")
)
