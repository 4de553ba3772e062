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

package tool

import "errors"

// NewRetriever assembles a retriever tool. Dispatch is identical to New
// except that the effective retrieval config (tool defaults overridden
// field-wise by the caller's "ragConfig" argument) is passed to the body
// as args["ragConfig"].
func NewRetriever(def Definition, handler Handler, opts ...Option) (*Base, error) {
	if def.Kind != "" && def.Kind != KindRetriever {
		return nil, errors.New("retriever definition must have kind 'retriever'")
	}
	def.Kind = KindRetriever

	if def.RetrievalDefaults == nil {
		def.RetrievalDefaults = DefaultRetrievalConfig()
	}

	return New(def, handler, opts...)
}

// DefaultRetrievalConfig returns the retrieval defaults applied when a
// retriever declares none.
func DefaultRetrievalConfig() *RetrievalConfig {
	return &RetrievalConfig{
		Similarity:           0.7,
		SimilarityModifiable: true,
		TopK:                 5,
		TopKModifiable:       true,
		Optimize:             false,
	}
}
