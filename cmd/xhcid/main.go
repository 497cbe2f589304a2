// Command xhcid wires a Controller, PCI config shim and device backends
// together into a runnable process. It stands in for the out-of-scope
// command-line option parser and extended-capability profile selection
// §1 names as external collaborators — real integrations replace this
// binary, never the xhci package it drives.
package main

import (
	"flag"
	"log"
	"os"

	"github.com/acrn-hypervisor/xhci/xhci"
	"github.com/acrn-hypervisor/xhci/xhci/backend"
	"github.com/acrn-hypervisor/xhci/xhci/pci"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML device/profile configuration")
	flag.Parse()

	var doc []byte
	if *configPath != "" {
		var err error
		doc, err = os.ReadFile(*configPath)
		if err != nil {
			log.Fatalf("xhcid: read config: %v", err)
		}
	}

	cfg, err := xhci.ParseConfig(doc)
	if err != nil {
		log.Fatalf("xhcid: %v", err)
	}

	vid, pid := pci.DefaultVendorID, pci.DefaultProductID
	if cfg.Profile == "vendor-drd" {
		vid, pid = pci.VendorDRDVendorID, pci.VendorDRDProductID
	}
	if cfg.VendorID != 0 {
		vid = int(cfg.VendorID)
	}
	if cfg.ProductID != 0 {
		pid = int(cfg.ProductID)
	}

	dev := pci.NewDevice(uint16(vid), uint16(pid), 0x1000)

	guestMem := make([]byte, 64*1024*1024)
	gw := xhci.NewGateway(func(gpa uint64) []byte {
		if gpa >= uint64(len(guestMem)) {
			panic("xhcid: guest-physical address out of range")
		}
		return guestMem[gpa:]
	})

	var ctrl *xhci.Controller
	newDevice := func(kind backend.Kind, info backend.Info) (backend.Device, error) {
		switch kind {
		case backend.KindPortMapped:
			return backend.NewPassthroughBackend(ctrl, info.VID, info.PID)
		default:
			return backend.NewPointerBackend(), nil
		}
	}

	ctrl, err = xhci.NewController(cfg, gw, dev.RaiseInterrupt, newDevice)
	if err != nil {
		log.Fatalf("xhcid: %v", err)
	}
	defer ctrl.Close()

	dev.Deliver = func(addr uint64, data uint16) {
		log.Printf("xhcid: MSI addr=%#x data=%#x", addr, data)
	}

	for _, path := range cfg.Whitelist {
		ctrl.Whitelist(path)
	}

	log.Printf("xhcid: controller ready, vid=%#04x pid=%#04x", vid, pid)
	select {}
}
