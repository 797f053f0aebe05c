//go:build windows

package netmap

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	modmpr                    = windows.NewLazySystemDLL("mpr.dll")
	procWNetAddConnection2W   = modmpr.NewProc("WNetAddConnection2W")
	procWNetCancelConnection2 = modmpr.NewProc("WNetCancelConnection2W")
)

const (
	resourceTypeDisk = 0x00000001

	errAlreadyAssigned         = 85
	errDeviceAlreadyRemembered = 1202
	errNotConnected            = 2250
)

type netResource struct {
	Scope       uint32
	Type        uint32
	DisplayType uint32
	Usage       uint32
	LocalName   *uint16
	RemoteName  *uint16
	Comment     *uint16
	Provider    *uint16
}

// WNetConnector maps drives through the Windows network redirector.
type WNetConnector struct{}

func NewWNetConnector() *WNetConnector {
	return &WNetConnector{}
}

func (c *WNetConnector) Connect(drive DriveLetter, remote UNCPath, cred *Credential) error {
	localName, err := windows.UTF16PtrFromString(drive.String())
	if err != nil {
		return fmt.Errorf("Connect: %w", err)
	}
	remoteName, err := windows.UTF16PtrFromString(remote.String())
	if err != nil {
		return fmt.Errorf("Connect: %w", err)
	}

	res := netResource{
		Type:       resourceTypeDisk,
		LocalName:  localName,
		RemoteName: remoteName,
	}

	var userPtr, passPtr *uint16
	if cred != nil && cred.Username != "" {
		if userPtr, err = windows.UTF16PtrFromString(cred.Username); err != nil {
			return fmt.Errorf("Connect: %w", err)
		}
		if passPtr, err = windows.UTF16PtrFromString(cred.Secret()); err != nil {
			return fmt.Errorf("Connect: %w", err)
		}
	}

	// dwFlags 0: the mapping is per-process scoped and never remembered.
	rc, _, _ := procWNetAddConnection2W.Call(
		uintptr(unsafe.Pointer(&res)),
		uintptr(unsafe.Pointer(passPtr)),
		uintptr(unsafe.Pointer(userPtr)),
		0,
	)
	switch rc {
	case 0:
		return nil
	case errAlreadyAssigned, errDeviceAlreadyRemembered:
		return fmt.Errorf("Connect: %s -> %w", drive, ErrDriveConflict)
	default:
		return fmt.Errorf("Connect: WNetAddConnection2 failed for %s -> %w", drive, windows.Errno(rc))
	}
}

func (c *WNetConnector) Disconnect(drive DriveLetter, force bool) error {
	localName, err := windows.UTF16PtrFromString(drive.String())
	if err != nil {
		return fmt.Errorf("Disconnect: %w", err)
	}

	var forceFlag uintptr
	if force {
		forceFlag = 1
	}

	rc, _, _ := procWNetCancelConnection2.Call(
		uintptr(unsafe.Pointer(localName)),
		0,
		forceFlag,
	)
	switch rc {
	case 0:
		return nil
	case errNotConnected:
		return ErrMappingNotFound
	default:
		return fmt.Errorf("Disconnect: WNetCancelConnection2 failed for %s -> %w", drive, windows.Errno(rc))
	}
}

func (c *WNetConnector) InUse(drive DriveLetter) bool {
	mask, err := windows.GetLogicalDrives()
	if err != nil {
		// When the probe fails, claim the letter is taken; the manager
		// will try the next one rather than race the redirector.
		return true
	}
	bit := uint32(1) << (drive[0] - 'A')
	return mask&bit != 0
}
