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

import "testing"

func TestHashPath(t *testing.T) {
	got := HashPath("49299eae4e3a195953764bb4adb3c91f")
	want := "49/29/49299eae4e3a195953764bb4adb3c91f"
	if got != want {
		t.Errorf("HashPath = %q; want %q", got, want)
	}
}

func TestHashPathShort(t *testing.T) {
	// Defensive: a hash shorter than four hex chars is returned unmodified
	// rather than panicking on the slice.
	got := HashPath("ab")
	if got != "ab" {
		t.Errorf("HashPath(short) = %q; want %q", got, "ab")
	}
}

func TestCDNPath(t *testing.T) {
	got := CDNPath("tpr/wow", ContentTypeData, "49299eae4e3a195953764bb4adb3c91f", "")
	want := "tpr/wow/data/49/29/49299eae4e3a195953764bb4adb3c91f"
	if got != want {
		t.Errorf("CDNPath = %q; want %q", got, want)
	}
}

func TestCDNPathWithSuffix(t *testing.T) {
	got := CDNPath("tpr/wow", ContentTypeData, "49299eae4e3a195953764bb4adb3c91f", ".index")
	want := "tpr/wow/data/49/29/49299eae4e3a195953764bb4adb3c91f.index"
	if got != want {
		t.Errorf("CDNPath = %q; want %q", got, want)
	}
}

func TestCDNURL(t *testing.T) {
	got := CDNURL("edge.example.com", "tpr/wow", ContentTypeConfig, "ffbbf430436ce472d8b6815b12e47569", "")
	want := "http://edge.example.com/tpr/wow/config/ff/bb/ffbbf430436ce472d8b6815b12e47569"
	if got != want {
		t.Errorf("CDNURL = %q; want %q", got, want)
	}
}
