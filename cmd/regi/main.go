package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
)

const defaultServerURL = "http://localhost:8080"

func main() {
	var serverURL string
	flag.StringVar(&serverURL, "server", defaultServerURL, "Server URL")
	flag.StringVar(&serverURL, "s", defaultServerURL, "Server URL (short)")
	flag.Parse()

	if flag.NArg() == 0 {
		printUsage()
		os.Exit(1)
	}

	args := flag.Args()
	cli := &client{baseURL: strings.TrimRight(serverURL, "/")}

	var err error
	switch args[0] {
	case "status":
		err = cli.getJSON("/printer/status")
	case "connect":
		err = cli.postJSON("/printer/connect", nil)
	case "restore":
		err = cli.postJSON("/printer/restore", nil)
	case "disconnect":
		err = cli.postJSON("/printer/disconnect", nil)
	case "cart":
		err = cli.getJSON("/cart")
	case "clear":
		err = cli.delete("/cart")
	case "add":
		err = cli.addItem(args[1:])
	case "search":
		if len(args) < 2 {
			err = fmt.Errorf("usage: regi search <query>")
		} else {
			err = cli.getJSON("/catalog/search?q=" + args[1])
		}
	case "checkout":
		err = cli.checkout(args[1:])
	case "preview":
		err = cli.preview(args[1:])
	case "settings":
		err = cli.getJSON("/settings")
	default:
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: regi [-s server] <command>

Commands:
  status                      Show printer state
  connect                     Scan for a printer and connect
  restore                     Reconnect to the last printer
  disconnect                  Release the printer
  cart                        Show the current cart
  add <name> <price> [part]   Add an item to the cart
  clear                       Empty the cart
  search <query>              Search the part catalog
  checkout <kind> [discount]  Print a document (receipt|formal|invoice|estimation)
  preview <kind> <out.png>    Render the document to a PNG file
  settings                    Show settings`)
}

type client struct {
	baseURL string
}

func (c *client) addItem(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: regi add <name> <price> [part_number]")
	}
	price, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("price must be an integer yen amount: %q", args[1])
	}
	body := map[string]any{"name": args[0], "price": price}
	if len(args) > 2 {
		body["part_number"] = args[2]
	}
	return c.postJSON("/cart/items", body)
}

func (c *client) checkout(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: regi checkout <kind> [discount]")
	}
	body := map[string]any{"kind": args[0]}
	if len(args) > 1 {
		discount, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("discount must be an integer yen amount: %q", args[1])
		}
		body["discount"] = discount
	}
	return c.postJSON("/checkout", body)
}

func (c *client) preview(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: regi preview <kind> <out.png>")
	}
	data, err := json.Marshal(map[string]any{"kind": args[0]})
	if err != nil {
		return err
	}
	resp, err := http.Post(c.baseURL+"/preview", "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return readError(resp)
	}
	img, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if err := os.WriteFile(args[1], img, 0644); err != nil {
		return err
	}
	fmt.Printf("wrote %s (%d bytes)\n", args[1], len(img))
	return nil
}

func (c *client) getJSON(path string) error {
	resp, err := http.Get(c.baseURL + path)
	if err != nil {
		return err
	}
	return printResponse(resp)
}

func (c *client) postJSON(path string, body map[string]any) error {
	data := []byte("{}")
	if body != nil {
		var err error
		data, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	resp, err := http.Post(c.baseURL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	return printResponse(resp)
}

func (c *client) delete(path string) error {
	req, err := http.NewRequest(http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	return printResponse(resp)
}

func printResponse(resp *http.Response) error {
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return readError(resp)
	}
	var out any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return err
	}
	pretty, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(pretty))
	return nil
}

func readError(resp *http.Response) error {
	var out struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err == nil && out.Error != "" {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, out.Error)
	}
	return fmt.Errorf("HTTP %d", resp.StatusCode)
}
