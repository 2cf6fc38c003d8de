// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
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

package proxycore

// TransactionID opaquely identifies a transaction for its lifetime. A
// successor built by StartReconnect carries the same identifier as its
// predecessor, so requests keep targeting the same transaction across a
// reconnect.
type TransactionID string

// Path addresses a node in the backend's tree-shaped data store. The core
// treats it as an opaque routing key; BackendAdapter implementations give it
// meaning.
type Path string
