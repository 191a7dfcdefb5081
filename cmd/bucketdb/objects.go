package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/goccy/go-json"

	"github.com/bucketdb/bucketdb/pkg/types"
)

var (
	stdin  io.Reader = os.Stdin
	stdout io.Writer = os.Stdout
)

type bucketFlag struct {
	Bucket string `long:"bucket" short:"b" required:"true" description:"Bucket name"`
}

type cmdPut struct {
	bucketFlag
	Args struct {
		Key  string `positional-arg-name:"KEY" required:"true"`
		Data string `positional-arg-name:"DATA"`
	} `positional-args:"yes"`
}

func (cmd *cmdPut) Execute([]string) error {
	raw := cmd.Args.Data
	if raw == "" || raw == "-" {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
		raw = string(b)
	}
	data, err := decodeObject(raw)
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	s, err := bucketStore(ctx, a, cmd.Bucket)
	if err != nil {
		return err
	}
	return s.Save(ctx, types.NewDocument(cmd.Args.Key, data))
}

type cmdGet struct {
	bucketFlag
	Args struct {
		Key string `positional-arg-name:"KEY" required:"true"`
	} `positional-args:"yes"`
}

func (cmd *cmdGet) Execute([]string) error {
	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	s, err := bucketStore(ctx, a, cmd.Bucket)
	if err != nil {
		return err
	}
	doc, err := s.Get(ctx, cmd.Args.Key)
	if err != nil {
		return err
	}
	return printJSON(doc.Data)
}

type cmdDelete struct {
	bucketFlag
	Args struct {
		Keys []string `positional-arg-name:"KEY" required:"1"`
	} `positional-args:"yes"`
}

func (cmd *cmdDelete) Execute([]string) error {
	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	s, err := bucketStore(ctx, a, cmd.Bucket)
	if err != nil {
		return err
	}
	for _, key := range cmd.Args.Keys {
		if err := s.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// decodeObject parses a JSON object, keeping numbers as int64 where they
// are integral so they index as integers.
func decodeObject(raw string) (map[string]interface{}, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()

	var data map[string]interface{}
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("document must be a JSON object: %w", err)
	}
	if data == nil {
		return nil, fmt.Errorf("document must be a JSON object")
	}
	return normalizeNumbers(data).(map[string]interface{}), nil
}

func normalizeNumbers(v interface{}) interface{} {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case map[string]interface{}:
		for k, e := range t {
			t[k] = normalizeNumbers(e)
		}
		return t
	case []interface{}:
		for i, e := range t {
			t[i] = normalizeNumbers(e)
		}
		return t
	default:
		return v
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
