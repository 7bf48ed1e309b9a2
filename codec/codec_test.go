package codec_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/xraph/stepflow/codec"
)

type host struct {
	Name  string   `json:"name" msgpack:"name"`
	Ports []int    `json:"ports" msgpack:"ports"`
	Tags  []string `json:"tags,omitempty" msgpack:"tags,omitempty"`
}

func TestCodecs(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"", codec.NameJSON, codec.NameMsgpack} {
		t.Run("codec="+name, func(t *testing.T) {
			t.Parallel()

			c, err := codec.Get(name)
			if err != nil {
				t.Fatalf("Get(%q): %v", name, err)
			}
			in := host{Name: "web-1", Ports: []int{22, 443}}
			data, err := c.Encode(in)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			var out host
			if err := c.Decode(data, &out); err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if diff := cmp.Diff(in, out); diff != "" {
				t.Errorf("%s changed value (-in +out):\n%s", c.Name(), diff)
			}
		})
	}
}

func TestUnknownCodec(t *testing.T) {
	t.Parallel()

	if _, err := codec.Get("protobuf"); err == nil {
		t.Error("expected error for unknown codec")
	}
}
