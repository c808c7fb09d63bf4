/*
Copyright 2017 Luke Granger-Brown

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package ngdp

// A ProgramCode is a reference to a particular game or game release channel.
//
// Blizzard tracks release and PTR (and classic/beta variants) as separate
// program codes, even though they sometimes refer to overlapping CDN storage.
type ProgramCode string

const (
	// ProgramWoW is the ProgramCode for the live World of Warcraft client.
	ProgramWoW ProgramCode = "wow"

	// ProgramWoWClassic is the ProgramCode for WoW Classic.
	ProgramWoWClassic ProgramCode = "wow_classic"

	// ProgramWoWTest is the ProgramCode for the WoW PTR.
	ProgramWoWTest ProgramCode = "wowt"
)

// A Region is a reference to a game region, used both to pick a patch host
// template and to select the matching record out of the version/server
// config tables.
type Region string

// DefaultRegion is used when a pipeline is constructed without an explicit
// region override.
const DefaultRegion Region = RegionUnitedStates

// Known region codes.
const (
	RegionUnitedStates Region = "us"
	RegionEurope       Region = "eu"
	RegionChina        Region = "cn"
	RegionKorea        Region = "kr"
	RegionTaiwan       Region = "tw"
	RegionSingapore    Region = "sg"
)

// A ContentType is a top-level directory on the CDN's static tree.
type ContentType string

// The content types below cover the CDN's top-level static tree; patch is
// unused by the resolution path here but still a valid path component.
const (
	ContentTypeConfig ContentType = "config"
	ContentTypeData   ContentType = "data"
	ContentTypePatch  ContentType = "patch"
)
