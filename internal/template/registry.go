package template

import (
	"errors"
	"fmt"
	"sort"
)

var ErrNotFound = errors.New("template not found")

// Registry maps template keys to parsed templates. Built once at startup
// and read-only afterwards, so concurrent reads need no locking.
type Registry struct {
	templates map[string]*Template
}

type Definition struct {
	Key         string
	Name        string
	Body        string
	Description string
}

// NewRegistry parses every definition, failing on the first malformed body.
func NewRegistry(defs []Definition) (*Registry, error) {
	r := &Registry{templates: make(map[string]*Template, len(defs))}
	for _, d := range defs {
		if _, ok := r.templates[d.Key]; ok {
			return nil, fmt.Errorf("duplicate template key %q", d.Key)
		}
		t, err := Parse(d.Key, d.Name, d.Body, d.Description)
		if err != nil {
			return nil, err
		}
		r.templates[d.Key] = t
	}
	return r, nil
}

func (r *Registry) Resolve(key string) (*Template, error) {
	t, ok := r.templates[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	return t, nil
}

// List returns all templates sorted by key.
func (r *Registry) List() []*Template {
	out := make([]*Template, 0, len(r.templates))
	for _, t := range r.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// RequiredVariables returns the base variable names the template references.
func (r *Registry) RequiredVariables(key string) ([]string, error) {
	t, err := r.Resolve(key)
	if err != nil {
		return nil, err
	}
	return t.Variables(), nil
}

// Defaults returns the built-in template set shipped with the service.
func Defaults() []Definition {
	return []Definition{
		{
			Key:         "arrived_v1",
			Name:        "Уведомление о прибытии товара",
			Body:        "{name}, ваш заказ{orderId? ' №'+orderId : ''} приехал и готов к выдаче.\n📍 Пункт выдачи: {pickup_address}\n🕒 Время: {pickup_hours}\nЕсли неудобно — напишите, согласуем время.",
			Description: "Уведомление клиенту о том, что заказ прибыл на склад и готов к выдаче",
		},
		{
			Key:         "ready_v1",
			Name:        "Уведомление о готовности к выдаче",
			Body:        "{name}, ваш заказ{orderId? ' №'+orderId : ''} готов к выдаче.\n📍 Пункт выдачи: {pickup_address}\n🕒 Время: {pickup_hours}",
			Description: "Уведомление о готовности заказа к выдаче",
		},
		{
			Key:         "shipped_v1",
			Name:        "Уведомление об отправке",
			Body:        "{name}, ваш заказ{orderId? ' №'+orderId : ''} отправлен.\n🚚 Трек-номер: {tracking_number}\n📅 Ожидаемая доставка: {delivery_date}",
			Description: "Уведомление об отправке заказа",
		},
	}
}

// MustDefaults builds the default registry; the shipped definitions are
// known-good, so a parse failure here is a programming error.
func MustDefaults() *Registry {
	r, err := NewRegistry(Defaults())
	if err != nil {
		panic(err)
	}
	return r
}
