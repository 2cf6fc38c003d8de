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

// Package proxycore implements the client-side state machine for a single
// transaction against one backend shard: the user-facing read/write/seal/
// commit/abort API, and the connection-thread protocol that grafts a
// successor proxy onto an in-flight transaction when the backend connection
// is reconnected.
//
// The package is deliberately narrow. It does not know how to serialize a
// request, discover a shard leader, or store data; those concerns live
// behind the BackendAdapter and Parent seams and are supplied by callers.
package proxycore
