/*
 * Copyright 2024 The F1r3fly Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package history

import "errors"

var (
	// ErrRootNotFound indicates GetHistoryReader or Checkpoint was called
	// with a root hash the repository has no snapshot for.
	ErrRootNotFound = errors.New("history: root not found")
	// ErrRepositoryClosed indicates an operation was attempted on a closed
	// repository.
	ErrRepositoryClosed = errors.New("history: repository is closed")
)
