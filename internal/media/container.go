package media

import "bytes"

// Container is a source container family recognised by its leading bytes.
type Container string

const (
	ContainerMP4      Container = "mp4"
	ContainerMatroska Container = "matroska"
	ContainerAVI      Container = "avi"
	ContainerMPEGTS   Container = "mpegts"
	ContainerMPEGPS   Container = "mpegps"
	ContainerFLV      Container = "flv"
)

// SniffLength is how many leading bytes DetectContainer needs to recognise
// every supported family.
const SniffLength = 512

const tsPacketSize = 188

// Extension is the file extension used for a staged source of this family.
func (c Container) Extension() string {
	switch c {
	case ContainerMP4:
		return ".mp4"
	case ContainerMatroska:
		return ".mkv"
	case ContainerAVI:
		return ".avi"
	case ContainerMPEGTS:
		return ".ts"
	case ContainerMPEGPS:
		return ".mpg"
	case ContainerFLV:
		return ".flv"
	default:
		return ".bin"
	}
}

// AcceptedContainers lists every family DetectContainer can return.
func AcceptedContainers() []Container {
	return []Container{ContainerMP4, ContainerMatroska, ContainerAVI, ContainerMPEGTS, ContainerMPEGPS, ContainerFLV}
}

// DetectContainer identifies the container from its signature. File names
// and declared content types are never consulted.
func DetectContainer(header []byte) (Container, bool) {
	switch {
	case len(header) >= 12 && bytes.Equal(header[4:8], []byte("ftyp")):
		return ContainerMP4, true
	case len(header) >= 4 && bytes.Equal(header[:4], []byte{0x1A, 0x45, 0xDF, 0xA3}):
		return ContainerMatroska, true
	case len(header) >= 12 && bytes.Equal(header[:4], []byte("RIFF")) && bytes.Equal(header[8:12], []byte("AVI ")):
		return ContainerAVI, true
	case len(header) > tsPacketSize && header[0] == 0x47 && header[tsPacketSize] == 0x47:
		return ContainerMPEGTS, true
	case len(header) >= 4 && bytes.Equal(header[:4], []byte{0x00, 0x00, 0x01, 0xBA}):
		return ContainerMPEGPS, true
	case len(header) >= 4 && bytes.Equal(header[:3], []byte("FLV")) && header[3] == 0x01:
		return ContainerFLV, true
	}
	return "", false
}
