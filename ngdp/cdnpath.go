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

import "fmt"

// HashPath renders the two-level prefix directory tree CASC's CDN uses to
// address a hash: the first four hex characters split into two two-character
// directories, followed by the full hash.
//
//	HashPath("49299eae4e3a195953764bb4adb3c91f") == "49/29/49299eae4e3a195953764bb4adb3c91f"
func HashPath(hexHash string) string {
	if len(hexHash) < 4 {
		return hexHash
	}
	return fmt.Sprintf("%s/%s/%s", hexHash[0:2], hexHash[2:4], hexHash)
}

// CDNPath builds the full path (without scheme/host) for a CDN object:
// {server_path}/{category}/{xx}/{yy}/{hash}{suffix}.
func CDNPath(serverPath string, category ContentType, hexHash, suffix string) string {
	return fmt.Sprintf("%s/%s/%s%s", serverPath, category, HashPath(hexHash), suffix)
}

// CDNURL composes an edge host and a CDNPath into a full HTTP URL.
func CDNURL(host, serverPath string, category ContentType, hexHash, suffix string) string {
	return fmt.Sprintf("http://%s/%s", host, CDNPath(serverPath, category, hexHash, suffix))
}
