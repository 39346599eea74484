package marketplace

import (
	"fmt"
	"maps"

	"github.com/mmeshcher/marketplace/internal/model"
)

// Registry хранит профили пользователей по идентификатору. Регистрация однократна.
type Registry struct {
	users map[model.Identity]model.UserProfile
}

// NewRegistry создаёт реестр из сохранённых профилей.
func NewRegistry(users map[model.Identity]model.UserProfile) (*Registry, error) {
	r := &Registry{users: make(map[model.Identity]model.UserProfile, len(users))}
	for id, u := range users {
		if err := id.Validate(); err != nil {
			return nil, err
		}
		u.IsRegistered = true
		r.users[id] = u
	}
	return r, nil
}

// Register возвращает реестр с новым профилем пользователя.
func (r *Registry) Register(id model.Identity, name, email string) (*Registry, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	if r.users[id].IsRegistered {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRegistered, id)
	}

	users := maps.Clone(r.users)
	if users == nil {
		users = make(map[model.Identity]model.UserProfile, 1)
	}
	users[id] = model.UserProfile{
		Name:         name,
		Email:        email,
		IsRegistered: true,
	}
	return &Registry{users: users}, nil
}

// Get возвращает профиль пользователя. Для неизвестного идентификатора
// возвращается пустой незарегистрированный профиль.
func (r *Registry) Get(id model.Identity) model.UserProfile {
	return r.users[id]
}

// Len возвращает количество зарегистрированных пользователей.
func (r *Registry) Len() int {
	return len(r.users)
}

// Users возвращает копию всех профилей.
func (r *Registry) Users() map[model.Identity]model.UserProfile {
	return maps.Clone(r.users)
}
