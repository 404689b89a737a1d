package state

import (
	"path/filepath"
	"strings"
)

// DefaultBootIDPath is where the kernel exposes the identifier of the current boot.
const DefaultBootIDPath = "/proc/sys/kernel/random/boot_id"

// Paths locates the state tree.
//
//	<root>/data/record.json             persisted record
//	<root>/data/instance-id             current instance-id
//	<root>/data/previous-instance-id    instance-id before the last change
//	<root>/data/status.json             outcome of the last run
//	<root>/data/sem/<name>              per-once semaphores
//	<root>/instances/<id>/sem/<name>    per-instance semaphores
//	<root>/boot/boot-id                 boot the per-boot semaphores belong to
//	<root>/boot/sem/<name>              per-boot semaphores
//	<root>/instance                     symlink to instances/<id>
type Paths struct {
	Root       string
	BootIDPath string
}

func (p Paths) data(elem ...string) string {
	return filepath.Join(append([]string{p.Root, "data"}, elem...)...)
}

func (p Paths) record() string             { return p.data("record.json") }
func (p Paths) instanceID() string         { return p.data("instance-id") }
func (p Paths) previousInstanceID() string { return p.data("previous-instance-id") }
func (p Paths) status() string             { return p.data("status.json") }
func (p Paths) onceSemaphores() string     { return p.data("sem") }
func (p Paths) instances() string          { return filepath.Join(p.Root, "instances") }
func (p Paths) instanceLink() string       { return filepath.Join(p.Root, "instance") }
func (p Paths) bootID() string             { return filepath.Join(p.Root, "boot", "boot-id") }
func (p Paths) bootSemaphores() string     { return filepath.Join(p.Root, "boot", "sem") }

func (p Paths) instance(id string) string {
	return filepath.Join(p.instances(), dirName(id))
}

func (p Paths) instanceSemaphores(id string) string {
	return filepath.Join(p.instance(id), "sem")
}

// dirName makes an instance-id safe for use as a single path element.
func dirName(id string) string {
	id = strings.ReplaceAll(id, string(filepath.Separator), "_")
	if id == "." || id == ".." {
		return "_" + id
	}
	return id
}
