// taskctl - submits a recipe to a taskd agent and prints the response.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/goccy/go-json"

	"github.com/chazu/taskd/client"
	"github.com/chazu/taskd/protocol"
)

func main() {
	cid := flag.Uint("cid", 3, "Guest context id (vsock)")
	port := flag.Uint("port", 1024, "Agent vsock port")
	tcpAddr := flag.String("tcp", "", "Connect over tcp to host:port instead of vsock")
	encoding := flag.String("encoding", "json", "Wire encoding: json or cbor")
	timeout := flag.Duration("timeout", 5*time.Second, "Dial timeout (tcp only)")
	hello := flag.String("hello", "taskctl", "Identifier sent in the handshake")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: taskctl [options] <recipe.json | ->\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  taskctl -cid 42 recipe.json           # vsock guest 42, port 1024\n")
		fmt.Fprintf(os.Stderr, "  taskctl -tcp 127.0.0.1:1024 - < r.json\n")
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	recipe, err := readRecipe(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	codec, err := protocol.CodecByName(*encoding)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	opts := []client.Option{client.WithCodec(codec), client.WithHello(*hello)}
	var c *client.Client
	if *tcpAddr != "" {
		c = client.NewTCP(*tcpAddr, *timeout, opts...)
	} else {
		c = client.NewVsock(uint32(*cid), uint32(*port), opts...)
	}

	res, err := c.Run(recipe)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := printResult(os.Stdout, res); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if res.Status != protocol.StatusOK {
		os.Exit(1)
	}
}

// readRecipe loads a JSON recipe from path, or from stdin for "-".
func readRecipe(path string) (any, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	var recipe any
	if err := json.NewDecoder(r).Decode(&recipe); err != nil {
		return nil, fmt.Errorf("decode recipe: %w", err)
	}
	if _, ok := recipe.([]any); !ok {
		return nil, fmt.Errorf("recipe must be a JSON array")
	}
	return recipe, nil
}

func printResult(w io.Writer, res *client.Result) error {
	for _, values := range res.Reports {
		line, err := json.Marshal(protocol.ReportMessage{Values: values})
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "%s\n", line); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "status %d\n", res.Status)
	return err
}
