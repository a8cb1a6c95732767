package dedup

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"
)

// HashAlgorithm represents a hash algorithm configuration
type HashAlgorithm struct {
	Name    string
	Size    int
	NewFunc func() hash.Hash
}

// GetHashAlgorithm returns the hash algorithm configuration for the given name
func GetHashAlgorithm(name string) (*HashAlgorithm, error) {
	switch strings.ToLower(name) {
	case "md5":
		return &HashAlgorithm{
			Name:    "md5",
			Size:    md5.Size,
			NewFunc: func() hash.Hash { return md5.New() },
		}, nil
	case "sha1":
		return &HashAlgorithm{
			Name:    "sha1",
			Size:    sha1.Size,
			NewFunc: func() hash.Hash { return sha1.New() },
		}, nil
	case "sha256":
		return &HashAlgorithm{
			Name:    "sha256",
			Size:    sha256.Size,
			NewFunc: func() hash.Hash { return sha256.New() },
		}, nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm: %s", name)
	}
}

// DefaultHashAlgorithm returns the default algorithm (md5, 16-byte fingerprints)
func DefaultHashAlgorithm() *HashAlgorithm {
	algorithm, err := GetHashAlgorithm("md5")
	if err != nil {
		panic(err) // md5 is always registered
	}
	return algorithm
}

// HashFile calculates the fingerprint of a file, streaming it in bufferSize
// chunks so memory use is independent of file size. It has no shared mutable
// state and is safe to call concurrently on different paths.
func HashFile(filePath string, algorithm *HashAlgorithm, bufferSize int) ([]byte, error) {
	return HashFileInterruptible(filePath, algorithm, bufferSize, nil)
}

// HashFileInterruptible calculates the fingerprint of a file using a
// configurable buffer size and checks for shutdown signals between buffer
// reads for graceful interruption. A nil shutdownChan disables the check.
func HashFileInterruptible(filePath string, algorithm *HashAlgorithm, bufferSize int, shutdownChan <-chan struct{}) ([]byte, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", filePath, err)
	}
	defer file.Close()

	if bufferSize <= 0 {
		bufferSize = DefaultHashBuffer
	}

	hasher := algorithm.NewFunc()
	buffer := make([]byte, bufferSize)

	for {
		// Check for shutdown signal before each read
		select {
		case <-shutdownChan:
			return nil, fmt.Errorf("hash operation interrupted by shutdown")
		default:
		}

		n, err := file.Read(buffer)
		if n > 0 {
			hasher.Write(buffer[:n])
		}

		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read from file %s: %w", filePath, err)
		}
	}

	return hasher.Sum(nil), nil
}
