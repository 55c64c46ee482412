// Copyright 2025 UMH Systems GmbH
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

package transact

// Command fills a batch with the operations realizing some change. Execute
// must not block on I/O.
type Command interface {
	Execute(b *Batch) error
}

// Identified is implemented by commands with a stable identity across
// retries, so repeated failures of the same work can be recognized.
type Identified interface {
	CommandID() string
}

// CommandFunc adapts a function to Command.
type CommandFunc func(b *Batch) error

func (f CommandFunc) Execute(b *Batch) error {
	return f(b)
}

