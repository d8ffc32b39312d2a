package environment

import (
	"errors"
	"regexp"
	"time"
)

// Status of an environment.
type Status string

const (
	StatusReady    Status = "ready"
	StatusDisabled Status = "disabled"
)

// InterpreterStarlark is the only interpreter environments are created for.
const InterpreterStarlark = "starlark"

var (
	ErrNotFound       = errors.New("environment not found")
	ErrExists         = errors.New("environment already exists")
	ErrInvalidName    = errors.New("invalid environment name")
	ErrModuleNotFound = errors.New("module not found")
	ErrInvalidModule  = errors.New("invalid module")
	ErrProtected      = errors.New("environment is protected")
)

var (
	nameRe   = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)
	moduleRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*\.star$`)
)

// ValidModuleName reports whether name is an installable module file name.
func ValidModuleName(name string) bool { return moduleRe.MatchString(name) }

// Environment is a directory of .star modules that sessions can load().
type Environment struct {
	ID          string    `gorm:"primaryKey;size:64" json:"id"`
	Name        string    `gorm:"uniqueIndex;size:128;not null" json:"name"`
	Path        string    `gorm:"size:1024;not null" json:"path"`
	Interpreter string    `gorm:"size:64;not null" json:"interpreter"`
	Status      Status    `gorm:"size:32;not null" json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName pins the table created by the migrations.
func (Environment) TableName() string { return "environments" }

// ModuleInfo describes one installed module.
type ModuleInfo struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}
