package configtable

import (
	"reflect"
	"strings"
	"testing"

	"github.com/casc-go/casc/ngdp"
)

func TestDecodeProductDescriptor(t *testing.T) {
	const table = `Region!STRING:0|BuildConfig!HEX:16|CDNConfig!HEX:16|KeyRing!HEX:16|BuildId!DEC:4|VersionsName!String:0|ProductConfig!HEX:16
us|a423790b9bcee8ac532ceb39fe550685|c8043457fcf9eb6dac433e53fa47f568|deadbeefdeadbeefdeadbeefdeadbeef|44247|2.5.0.44247|f03448a5aa6c9f1e9307335946af0512
`
	d := NewDecoder(strings.NewReader(table))

	var got ngdp.ProductDescriptor
	if err := d.Decode(&got); err != nil {
		t.Fatalf("Decode: %v", err)
	}

	wantBuildConfig, _ := ngdp.ParseContentKey("a423790b9bcee8ac532ceb39fe550685")
	wantCDNConfig, _ := ngdp.ParseContentKey("c8043457fcf9eb6dac433e53fa47f568")
	wantProductConfig, _ := ngdp.ParseContentKey("f03448a5aa6c9f1e9307335946af0512")
	want := ngdp.ProductDescriptor{
		Region:        "us",
		BuildID:       44247,
		VersionsName:  "2.5.0.44247",
		BuildConfig:   wantBuildConfig,
		CDNConfig:     wantCDNConfig,
		ProductConfig: wantProductConfig,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Decode = %#v; want %#v", got, want)
	}
}

func TestDecodeServerDescriptor(t *testing.T) {
	const table = `Name!STRING:0|Path!STRING:0|Hosts!STRING:0|ConfigPath!STRING:0
us|tpr/wow|level3.blizzard.com us.cdn.blizzard.com|tpr/configs/data
`
	d := NewDecoder(strings.NewReader(table))

	var got ngdp.ServerDescriptor
	if err := d.Decode(&got); err != nil {
		t.Fatalf("Decode: %v", err)
	}

	want := ngdp.ServerDescriptor{
		Name:       "us",
		Path:       "tpr/wow",
		Hosts:      []string{"level3.blizzard.com", "us.cdn.blizzard.com"},
		ConfigPath: "tpr/configs/data",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Decode = %#v; want %#v", got, want)
	}
}
