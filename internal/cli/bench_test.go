package cli

import (
	"bytes"
	"fmt"
	"testing"
)

func BenchmarkCLIVersion(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if err := benchCLI("version"); err != nil {
			b.Fatalf("execute version command: %v", err)
		}
	}
}

func BenchmarkKVSetGetRoundTrip(b *testing.B) {
	tmp := b.TempDir()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := fmt.Sprintf("key-%d", i)
		if err := benchCLI(storageArgs(tmp, "kv", "set", key, "value")...); err != nil {
			b.Fatalf("kv set: %v", err)
		}
		if err := benchCLI(storageArgs(tmp, "kv", "get", key)...); err != nil {
			b.Fatalf("kv get: %v", err)
		}
	}
}

func benchCLI(args ...string) error {
	var out bytes.Buffer
	cmd := NewRootCommand(&out, BuildInfo{Version: "bench", Commit: "bench", BuildTime: "bench"})
	cmd.SetArgs(args)
	return cmd.Execute()
}
