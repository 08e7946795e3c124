/*
 * Copyright 2020 Dgraph Labs, Inc. and Contributors
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

// Package extensions provides ready-made table extensions.
package extensions

import "github.com/HyeonJungHam/reverb"

// Base is a no-op implementation of reverb.TableExtension. Embed it to
// only implement the hooks an extension cares about.
type Base struct{}

func (Base) AfterRegister(*reverb.Table)        {}
func (Base) BeforeUnregister(*reverb.Table)     {}
func (Base) BeforeInsert(reverb.ExtensionItem)  {}
func (Base) AfterInsert(reverb.ExtensionItem)   {}
func (Base) OnSample(reverb.ExtensionItem)      {}
func (Base) OnUpdate(reverb.ExtensionItem)      {}
func (Base) OnDelete(reverb.ExtensionItem)      {}
func (Base) OnReset()                           {}
func (Base) OnCheckpointLoaded([]*reverb.Table) {}
