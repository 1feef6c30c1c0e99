// Package deploy hands completed artifacts to a deployment target.
//
// The local target installs files into a storage tree laid out like a
// hypervisor storage (template/iso for images, template/cache for container
// templates), replacing existing files atomically after a checksum check.
package deploy
