package contentcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func writeFullText(t *testing.T, c *Cache, path string, data []byte) string {
	t.Helper()
	sink, err := c.NewFullTextSink(path)
	if err != nil {
		t.Fatalf("NewFullTextSink: %v", err)
	}
	if _, err := sink.Write(data); err != nil {
		t.Fatalf("Write: %v", err)
	}
	digest, err := sink.Close()
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	return digest
}

func TestFullTextSinkWriteAndDigest(t *testing.T) {
	c := openTestCache(t)
	digest := writeFullText(t, c, "trunk/a.txt", []byte("hello world"))

	// known MD5 of "hello world"
	assert.Equal(t, "5eb63bbbe01eeed093cb22bb8f5acdc3", digest)
	assert.Equal(t, digest, c.Digest("trunk/a.txt"))
	assert.NotEmpty(t, c.SourcePath("trunk/a.txt"))
}

func TestFullTextSinkReplacesPreviousFile(t *testing.T) {
	c := openTestCache(t)
	writeFullText(t, c, "trunk/a.txt", []byte("v1"))
	first := c.SourcePath("trunk/a.txt")

	writeFullText(t, c, "trunk/a.txt", []byte("v2 longer"))
	second := c.SourcePath("trunk/a.txt")

	assert.NotEqual(t, first, second)
}

func TestAliasBindsSameFileAndDigest(t *testing.T) {
	c := openTestCache(t)
	digest := writeFullText(t, c, "trunk/a.txt", []byte("content"))

	c.Alias("trunk/a.txt", "branches/b/a.txt")
	assert.Equal(t, digest, c.Digest("branches/b/a.txt"))
	assert.Equal(t, c.SourcePath("trunk/a.txt"), c.SourcePath("branches/b/a.txt"))
}

func TestAliasOfUnknownSourceIsNoOp(t *testing.T) {
	c := openTestCache(t)
	c.Alias("does/not/exist", "dst")
	assert.Empty(t, c.SourcePath("dst"))
}

func TestDeleteRemovesBinding(t *testing.T) {
	c := openTestCache(t)
	writeFullText(t, c, "trunk/a.txt", []byte("data"))
	if err := c.Delete("trunk/a.txt"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	assert.Empty(t, c.SourcePath("trunk/a.txt"))
	assert.Empty(t, c.Digest("trunk/a.txt"))
}

func TestDetectMIMEOnPlainTextReturnsEmpty(t *testing.T) {
	c := openTestCache(t)
	writeFullText(t, c, "trunk/a.txt", []byte("just some ordinary text content"))
	mime, err := c.DetectMIME("trunk/a.txt")
	if err != nil {
		t.Fatalf("DetectMIME: %v", err)
	}
	assert.Empty(t, mime)
}

func TestDetectMIMEOnPNGSignature(t *testing.T) {
	c := openTestCache(t)
	png := append([]byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}, make([]byte, 64)...)
	writeFullText(t, c, "trunk/logo.png", png)
	mime, err := c.DetectMIME("trunk/logo.png")
	if err != nil {
		t.Fatalf("DetectMIME: %v", err)
	}
	assert.Equal(t, "image/png", mime)
}

func TestDetectMIMEOfUncachedPathReturnsEmpty(t *testing.T) {
	c := openTestCache(t)
	mime, err := c.DetectMIME("never/staged")
	if err != nil {
		t.Fatalf("DetectMIME: %v", err)
	}
	assert.Empty(t, mime)
}
