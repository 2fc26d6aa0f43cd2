package auth

import (
	"fmt"
	"sync"
)

// Permission is a bitmap of capabilities carried by a user's token.
type Permission uint64

const (
	PermView Permission = 1 << iota
	PermEdit
)

var BuiltInPerms = map[string]Permission{
	"view": PermView,
	"edit": PermEdit,
}

func (p Permission) Has(flag Permission) bool {
	return p&flag == flag
}

var (
	registry = make(map[string]Permission)
	nextBit  uint = 2
	mu       sync.RWMutex
)

func init() {
	for name, perm := range BuiltInPerms {
		registry[name] = perm
	}
}

func RegisterPermission(name string) error {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := BuiltInPerms[name]; exists {
		return fmt.Errorf("'%s' is reserved for a built-in permission. please choose a different name", name)
	}
	if _, exists := registry[name]; exists {
		return fmt.Errorf("permission '%s' is already registered", name)
	}
	if nextBit >= 64 {
		return fmt.Errorf("cannot register new permission '%s': maximum of 64 permissions reached", name)
	}

	registry[name] = Permission(1 << nextBit)
	nextBit++
	return nil
}

// CompilePermissions takes a slice of permission names and returns a combined bitmap.
func CompilePermissions(names []string) (Permission, error) {
	mu.RLock()
	defer mu.RUnlock()

	var bitmap Permission
	for _, name := range names {
		value, ok := registry[name]
		if !ok {
			return 0, fmt.Errorf("permission '%s' not found", name)
		}
		bitmap |= value
	}
	return bitmap, nil
}
