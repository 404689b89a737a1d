package datasource

import (
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// azureAssetTag is the chassis asset tag Hyper-V sets on Azure instances.
const azureAssetTag = "7783-7084-3265-9085-8269-3286-77"

// dmi holds the platform hints exposed by the firmware.
type dmi struct {
	SysVendor       string
	ProductName     string
	ProductUUID     string
	BoardAssetTag   string
	ChassisAssetTag string
	BIOSVendor      string
	HypervisorUUID  string
}

func (r *Registry) readDMI() dmi {
	read := func(elem ...string) string {
		b, err := afero.ReadFile(r.fs, filepath.Join(append([]string{r.sysfs}, elem...)...))
		if err != nil {
			return ""
		}
		return strings.TrimSpace(string(b))
	}

	return dmi{
		SysVendor:       read("class", "dmi", "id", "sys_vendor"),
		ProductName:     read("class", "dmi", "id", "product_name"),
		ProductUUID:     strings.ToLower(read("class", "dmi", "id", "product_uuid")),
		BoardAssetTag:   read("class", "dmi", "id", "board_asset_tag"),
		ChassisAssetTag: read("class", "dmi", "id", "chassis_asset_tag"),
		BIOSVendor:      read("class", "dmi", "id", "bios_vendor"),
		HypervisorUUID:  strings.ToLower(read("hypervisor", "uuid")),
	}
}

func (d dmi) contains(substrs ...string) bool {
	fields := strings.ToLower(strings.Join([]string{d.SysVendor, d.ProductName, d.BIOSVendor}, "\n"))
	for _, s := range substrs {
		if strings.Contains(fields, s) {
			return true
		}
	}
	return false
}

func (d dmi) isEC2() bool {
	return d.contains("amazon", "ec2") ||
		strings.HasPrefix(d.HypervisorUUID, "ec2") ||
		strings.HasPrefix(d.ProductUUID, "ec2")
}

func (d dmi) isGCE() bool {
	return d.contains("google")
}

func (d dmi) isAzure() bool {
	return d.ChassisAssetTag == azureAssetTag || d.contains("microsoft", "azure")
}

func (d dmi) isOpenStack() bool {
	return d.contains("openstack", "bochs", "qemu", "kvm", "rhev") || d.ChassisAssetTag == "OpenStack Nova"
}

// platformCheck returns a not applicable error if c requires a DMI signature the firmware does
// not carry.
func (r *Registry) platformCheck(c Candidate, match func(dmi) bool) error {
	if c.Options.PlatformCheck != PlatformCheckStrict {
		return nil
	}
	if !match(r.readDMI()) {
		return notApplicable("platform signature not found")
	}
	return nil
}

func isEC2InstanceID(s string) bool {
	return strings.HasPrefix(s, "i-")
}
