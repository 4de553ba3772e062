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

package react

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter counts tokens for a model, falling back to cl100k_base when
// the model has no registered encoding.
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
}

var (
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	encodingMu    sync.Mutex
)

// NewTokenCounter returns a counter for the given model. A nil counter is
// usable: it estimates 4 characters per token.
func NewTokenCounter(model string) *TokenCounter {
	encodingMu.Lock()
	defer encodingMu.Unlock()

	if enc, ok := encodingCache[model]; ok {
		return &TokenCounter{encoding: enc}
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil
		}
	}
	encodingCache[model] = enc
	return &TokenCounter{encoding: enc}
}

// Count returns the token count for text.
func (tc *TokenCounter) Count(text string) int {
	if tc == nil || tc.encoding == nil {
		return (len(text) + 3) / 4
	}
	return len(tc.encoding.Encode(text, nil, nil))
}

// FitContent returns the longest prefix of fragments whose total token
// count stays within target. A non-positive target admits everything.
func (tc *TokenCounter) FitContent(fragments []string, target int) []string {
	if target <= 0 {
		return fragments
	}

	used := 0
	for i, fragment := range fragments {
		used += tc.Count(fragment)
		if used > target {
			return fragments[:i]
		}
	}
	return fragments
}
