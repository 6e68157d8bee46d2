// Package simflash provides an in-memory flash image for host-side testing
// and for cmd/bootsim, implementing handler.Flash and launch.WordReader
// without any real memory-mapped hardware.
package simflash

import "fmt"

// Image is a byte-addressed flash image covering [Base, Base+len(Data)).
type Image struct {
	Base uint32
	Data []byte
}

// New creates an Image of size bytes starting at base, erased (all 0xFF).
func New(base uint32, size uint32) *Image {
	img := &Image{Base: base, Data: make([]byte, size)}
	for i := range img.Data {
		img.Data[i] = 0xFF
	}
	return img
}

func (img *Image) offset(address uint32, length int) (int, error) {
	if address < img.Base || uint64(address)+uint64(length) > uint64(img.Base)+uint64(len(img.Data)) {
		return 0, fmt.Errorf("address range [%#x, %#x) outside simulated flash [%#x, %#x)",
			address, uint64(address)+uint64(length), img.Base, uint64(img.Base)+uint64(len(img.Data)))
	}
	return int(address - img.Base), nil
}

// Erase fills pageCount pages of pageSize bytes starting at pageAddress
// with 0xFF, as a real NOR/NAND erase would.
func (img *Image) Erase(pageAddress, pageCount uint32) error {
	return img.EraseSized(pageAddress, pageCount, defaultPageSize)
}

// defaultPageSize matches bootctx.DataBlockSize without importing bootctx,
// keeping this package free of a dependency on the protocol layer.
const defaultPageSize = 1024

// EraseSized erases pageCount pages of the given size starting at
// pageAddress.
func (img *Image) EraseSized(pageAddress, pageCount, pageSize uint32) error {
	off, err := img.offset(pageAddress, int(pageCount*pageSize))
	if err != nil {
		return err
	}
	for i := off; i < off+int(pageCount*pageSize); i++ {
		img.Data[i] = 0xFF
	}
	return nil
}

// Write copies data into the image starting at address.
func (img *Image) Write(address uint32, data []byte) error {
	off, err := img.offset(address, len(data))
	if err != nil {
		return err
	}
	copy(img.Data[off:off+len(data)], data)
	return nil
}

// ReadAt copies len(dst) bytes starting at address into dst.
func (img *Image) ReadAt(address uint32, dst []byte) error {
	off, err := img.offset(address, len(dst))
	if err != nil {
		return err
	}
	copy(dst, img.Data[off:off+len(dst)])
	return nil
}

// ReadWord reads a little-endian 32-bit word at address, for use by
// pkg/launch's image validator.
func (img *Image) ReadWord(address uint32) (uint32, error) {
	var buf [4]byte
	if err := img.ReadAt(address, buf[:]); err != nil {
		return 0, err
	}
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24, nil
}
