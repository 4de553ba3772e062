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

package graph

import "strings"

// Estimator scores how confident a node output sounds, in [0, 1].
type Estimator interface {
	Estimate(output string) float64
}

// uncertaintyMarkers lower the keyword estimator's score, 0.1 per hit.
var uncertaintyMarkers = []string{
	"i think",
	"maybe",
	"possibly",
	"might be",
	"could be",
	"not sure",
	"unclear",
	"uncertain",
	"probably",
	"seems like",
	"appears to",
}

// KeywordEstimator counts hedging phrases: confidence is
// max(0.1, 1.0 - 0.1 * count).
type KeywordEstimator struct{}

func (KeywordEstimator) Estimate(output string) float64 {
	lowered := strings.ToLower(output)

	count := 0
	for _, marker := range uncertaintyMarkers {
		count += strings.Count(lowered, marker)
	}

	confidence := 1.0 - 0.1*float64(count)
	if confidence < 0.1 {
		return 0.1
	}
	return confidence
}
