package safetensors

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type rawTensor struct {
	dtype string
	shape []int64
	data  []byte
}

// buildSafetensors creates a .safetensors blob by hand, independent of the
// writer under test.
func buildSafetensors(t *testing.T, tensors map[string]rawTensor) []byte {
	t.Helper()

	header := make(map[string]storeHeaderEntry)
	var rawData []byte
	for name, info := range tensors {
		start := len(rawData)
		rawData = append(rawData, info.data...)
		header[name] = storeHeaderEntry{
			DType:   info.dtype,
			Shape:   info.shape,
			Offsets: [2]int{start, start + len(info.data)},
		}
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		t.Fatalf("marshal header: %v", err)
	}

	buf := binary.LittleEndian.AppendUint64(nil, uint64(len(headerJSON)))
	buf = append(buf, headerJSON...)
	return append(buf, rawData...)
}

func float32Bytes(vals []float32) []byte {
	buf := make([]byte, 0, len(vals)*4)
	for _, v := range vals {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
	}
	return buf
}

func TestStore_TensorByName_F32(t *testing.T) {
	blob := buildSafetensors(t, map[string]rawTensor{
		"alpha": {dtype: "F32", shape: []int64{2}, data: float32Bytes([]float32{1, 2})},
		"beta":  {dtype: "F32", shape: []int64{1, 3}, data: float32Bytes([]float32{3, 4, 5})},
	})

	store, err := OpenStoreFromBytes(blob)
	if err != nil {
		t.Fatalf("OpenStoreFromBytes: %v", err)
	}
	defer store.Close()

	names := store.Names()
	if strings.Join(names, "|") != "alpha|beta" {
		t.Fatalf("Names() = %v; want [alpha beta]", names)
	}

	tensor, err := store.Tensor("beta")
	if err != nil {
		t.Fatalf("Tensor(beta): %v", err)
	}

	if len(tensor.Shape) != 2 || tensor.Shape[0] != 1 || tensor.Shape[1] != 3 {
		t.Fatalf("beta shape = %v; want [1 3]", tensor.Shape)
	}

	if len(tensor.Data) != 3 || tensor.Data[0] != 3 || tensor.Data[2] != 5 {
		t.Fatalf("beta data = %v; want [3 4 5]", tensor.Data)
	}
}

func TestStore_DTypeConversion_F16AndBF16(t *testing.T) {
	blob := buildSafetensors(t, map[string]rawTensor{
		"half":  {dtype: "F16", shape: []int64{3}, data: float16Bytes([]uint16{0x3c00, 0xc000, 0x3800})},
		"bhalf": {dtype: "bf16", shape: []int64{3}, data: bfloat16BytesFromFloat32([]float32{1.0, -2.0, 0.5})},
	})

	store, err := OpenStoreFromBytes(blob)
	if err != nil {
		t.Fatalf("OpenStoreFromBytes: %v", err)
	}
	defer store.Close()

	half, err := store.Tensor("half")
	if err != nil {
		t.Fatalf("Tensor(half): %v", err)
	}
	assertFloatSliceNear(t, half.Data, []float32{1.0, -2.0, 0.5}, 1e-4)

	bhalf, err := store.Tensor("bhalf")
	if err != nil {
		t.Fatalf("Tensor(bhalf): %v", err)
	}
	assertFloatSliceNear(t, bhalf.Data, []float32{1.0, -2.0, 0.5}, 1e-4)
}

func TestStore_MissingTensorDiagnostics(t *testing.T) {
	blob := buildSafetensors(t, map[string]rawTensor{
		"alpha": {dtype: "F32", shape: []int64{2}, data: float32Bytes([]float32{1, 2})},
	})

	store, err := OpenStoreFromBytes(blob)
	if err != nil {
		t.Fatalf("OpenStoreFromBytes: %v", err)
	}
	defer store.Close()

	_, err = store.Tensor("missing")
	if err == nil {
		t.Fatal("Tensor(missing) should fail")
	}
	if !strings.Contains(err.Error(), "available: alpha") {
		t.Fatalf("missing tensor error should include available names, got: %v", err)
	}
}

func TestStore_Errors(t *testing.T) {
	badOffsets := func() []byte {
		header := `{"bad":{"dtype":"F32","shape":[1],"data_offsets":[4,2]}}`
		data := binary.LittleEndian.AppendUint64(nil, uint64(len(header)))
		data = append(data, header...)
		return append(data, 0, 0, 0, 0)
	}()

	truncated := buildSafetensors(t, map[string]rawTensor{
		"x": {dtype: "F32", shape: []int64{4}, data: float32Bytes([]float32{1})},
	})

	onlyMeta := func() []byte {
		header := `{"__metadata__":{"voice":"x"}}`
		data := binary.LittleEndian.AppendUint64(nil, uint64(len(header)))
		return append(data, header...)
	}()

	cases := map[string][]byte{
		"empty":             nil,
		"short header":      {1, 2, 3},
		"header too long":   binary.LittleEndian.AppendUint64(nil, 1<<40),
		"invalid json":      append(binary.LittleEndian.AppendUint64(nil, 3), "{{{"...),
		"unsupported dtype": buildSafetensors(t, map[string]rawTensor{"x": {dtype: "I64", shape: []int64{1}, data: make([]byte, 8)}}),
		"bad offsets":       badOffsets,
		"truncated data":    truncated,
		"no tensors":        onlyMeta,
	}

	for name, blob := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := OpenStoreFromBytes(blob); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestOpenStore_FileNotFound(t *testing.T) {
	if _, err := OpenStore(filepath.Join(t.TempDir(), "missing.safetensors")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestStore_MetadataIsACopy(t *testing.T) {
	blob, err := EncodeTensors([]Tensor{{Name: "a", Shape: []int64{1}, Data: []float32{1}}}, map[string]string{"voice": "emma"})
	if err != nil {
		t.Fatalf("EncodeTensors: %v", err)
	}

	store, err := OpenStoreFromBytes(blob)
	if err != nil {
		t.Fatalf("OpenStoreFromBytes: %v", err)
	}

	meta := store.Metadata()
	meta["voice"] = "changed"
	if store.Metadata()["voice"] != "emma" {
		t.Fatalf("metadata mutated through returned map")
	}
	if store.Has(metadataKey) {
		t.Fatal("metadata must not be listed as a tensor")
	}
}

func writeTemp(t *testing.T, data []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.safetensors")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func float16Bytes(bits []uint16) []byte {
	buf := make([]byte, len(bits)*2)
	for i, b := range bits {
		binary.LittleEndian.PutUint16(buf[i*2:], b)
	}

	return buf
}

func bfloat16BytesFromFloat32(vals []float32) []byte {
	buf := make([]byte, len(vals)*2)
	for i, v := range vals {
		bits := math.Float32bits(v)
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(bits>>16))
	}

	return buf
}

func assertFloatSliceNear(t *testing.T, got, want []float32, tol float64) {
	t.Helper()

	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d want %d", len(got), len(want))
	}

	for i := range got {
		diff := math.Abs(float64(got[i] - want[i]))
		if diff > tol {
			t.Fatalf("value[%d]=%v want=%v diff=%v tol=%v", i, got[i], want[i], diff, tol)
		}
	}
}
