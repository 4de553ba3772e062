// Copyright 2025 Vireo Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package provider abstracts where configuration bytes come from.
package provider

import "context"

// Type identifies a provider implementation.
type Type string

const (
	// TypeFile reads from the local filesystem.
	TypeFile Type = "file"

	// TypeBytes serves a fixed in-memory document; used in tests and for
	// programmatic configuration.
	TypeBytes Type = "bytes"
)

// Provider supplies raw configuration bytes and optionally watches for
// changes.
type Provider interface {
	Type() Type

	// Load reads the current configuration document.
	Load(ctx context.Context) ([]byte, error)

	// Watch returns a channel receiving a signal on every change, or nil
	// when the provider cannot watch.
	Watch(ctx context.Context) (<-chan struct{}, error)

	Close() error
}

// BytesProvider serves a fixed document.
type BytesProvider struct {
	Data []byte
}

func (p *BytesProvider) Type() Type { return TypeBytes }

func (p *BytesProvider) Load(ctx context.Context) ([]byte, error) {
	return p.Data, nil
}

func (p *BytesProvider) Watch(ctx context.Context) (<-chan struct{}, error) {
	return nil, nil
}

func (p *BytesProvider) Close() error { return nil }
