// Package registryseed loads gateways, trackers, products and orders from a
// YAML file into the registry.
package registryseed

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"pathledger/internal/domain"
)

type File struct {
	Gateways []Gateway `yaml:"gateways"`
	Trackers []Tracker `yaml:"trackers"`
	Products []Product `yaml:"products"`
	Orders   []Order   `yaml:"orders"`
}

type Gateway struct {
	Key                 string   `yaml:"key"`
	Secret              string   `yaml:"secret,omitempty"`
	AllowedMessageTypes []string `yaml:"allowed_message_types,omitempty"`
}

type Tracker struct {
	Key string `yaml:"key"`
}

type Product struct {
	Key  string `yaml:"key"`
	Name string `yaml:"name,omitempty"`
}

type Order struct {
	Number   string       `yaml:"number"`
	Products []string     `yaml:"products"`
	Trackers []Assignment `yaml:"trackers,omitempty"`
	Statuses []Status     `yaml:"statuses,omitempty"`
}

type Assignment struct {
	Key        string    `yaml:"key"`
	AssignedAt time.Time `yaml:"assigned_at"`
}

type Status struct {
	Status    string    `yaml:"status"`
	Timestamp time.Time `yaml:"timestamp"`
}

// Writer is the registry surface a seed is applied through. Every call is an
// upsert, so applying the same file twice leaves the registry unchanged.
type Writer interface {
	UpsertGateway(ctx context.Context, gw domain.Gateway) error
	UpsertTracker(ctx context.Context, tracker domain.Tracker) error
	UpsertProduct(ctx context.Context, product domain.Product) error
	UpsertOrder(ctx context.Context, order domain.ProductOrder) error
	AssignTracker(ctx context.Context, a domain.TrackerAssignment) error
	RecordOrderStatus(ctx context.Context, status domain.OrderStatus) error
}

type Summary struct {
	Gateways    int
	Trackers    int
	Products    int
	Orders      int
	Assignments int
	Statuses    int
}

func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) validate() error {
	for i, gw := range f.Gateways {
		if gw.Key == "" {
			return fmt.Errorf("gateways[%d]: key is required", i)
		}
		for _, t := range gw.AllowedMessageTypes {
			if _, ok := domain.ParseMessageType(t); !ok {
				return fmt.Errorf("gateway %s: unknown message type %q", gw.Key, t)
			}
		}
	}
	for i, tr := range f.Trackers {
		if tr.Key == "" {
			return fmt.Errorf("trackers[%d]: key is required", i)
		}
	}
	for i, p := range f.Products {
		if p.Key == "" {
			return fmt.Errorf("products[%d]: key is required", i)
		}
	}
	for i, o := range f.Orders {
		if o.Number == "" {
			return fmt.Errorf("orders[%d]: number is required", i)
		}
		for _, a := range o.Trackers {
			if a.Key == "" || a.AssignedAt.IsZero() {
				return fmt.Errorf("order %s: tracker assignments need key and assigned_at", o.Number)
			}
		}
		for _, s := range o.Statuses {
			if s.Status == "" || s.Timestamp.IsZero() {
				return fmt.Errorf("order %s: statuses need status and timestamp", o.Number)
			}
		}
	}
	return nil
}

// Apply writes the file in dependency order: gateways, trackers and products
// before the orders that reference them.
func Apply(ctx context.Context, w Writer, f *File) (Summary, error) {
	var sum Summary
	for _, gw := range f.Gateways {
		types := make([]domain.MessageType, 0, len(gw.AllowedMessageTypes))
		for _, t := range gw.AllowedMessageTypes {
			mt, _ := domain.ParseMessageType(t)
			types = append(types, mt)
		}
		if err := w.UpsertGateway(ctx, domain.Gateway{Key: gw.Key, Secret: gw.Secret, AllowedMessageTypes: types}); err != nil {
			return sum, fmt.Errorf("gateway %s: %w", gw.Key, err)
		}
		sum.Gateways++
	}
	for _, tr := range f.Trackers {
		if err := w.UpsertTracker(ctx, domain.Tracker{Key: tr.Key}); err != nil {
			return sum, fmt.Errorf("tracker %s: %w", tr.Key, err)
		}
		sum.Trackers++
	}
	for _, p := range f.Products {
		if err := w.UpsertProduct(ctx, domain.Product{Key: p.Key, Name: p.Name}); err != nil {
			return sum, fmt.Errorf("product %s: %w", p.Key, err)
		}
		sum.Products++
	}
	for _, o := range f.Orders {
		if err := w.UpsertOrder(ctx, domain.ProductOrder{Number: o.Number, ProductKeys: o.Products}); err != nil {
			return sum, fmt.Errorf("order %s: %w", o.Number, err)
		}
		sum.Orders++
		for _, a := range o.Trackers {
			if err := w.AssignTracker(ctx, domain.TrackerAssignment{OrderNumber: o.Number, TrackerKey: a.Key, AssignedAt: a.AssignedAt}); err != nil {
				return sum, fmt.Errorf("order %s tracker %s: %w", o.Number, a.Key, err)
			}
			sum.Assignments++
		}
		for _, s := range o.Statuses {
			status := domain.OrderStatus{OrderNumber: o.Number, Status: domain.OrderStatusCode(s.Status), Timestamp: s.Timestamp}
			if err := w.RecordOrderStatus(ctx, status); err != nil {
				return sum, fmt.Errorf("order %s status %s: %w", o.Number, s.Status, err)
			}
			sum.Statuses++
		}
	}
	return sum, nil
}

func LoadAndApply(ctx context.Context, w Writer, path string) (Summary, error) {
	f, err := Load(path)
	if err != nil {
		return Summary{}, err
	}
	return Apply(ctx, w, f)
}
