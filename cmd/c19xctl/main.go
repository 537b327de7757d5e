// c19xctl is a small CLI client for a running c19xd's local control/status
// plane, grounded on the teacher's cmd/drand-cli/control.go: a spinner
// polls a status endpoint until a condition holds, plain commands issue a
// single debug request and print the body.
package main

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/urfave/cli/v2"
)

const refreshRate = 500 * time.Millisecond

var addrFlag = &cli.StringFlag{
	Name:  "addr",
	Value: "127.0.0.1:8645",
	Usage: "c19xd control plane address",
}

func main() {
	app := &cli.App{
		Name:  "c19xctl",
		Usage: "control and inspect a running c19xd",
		Flags: []cli.Flag{addrFlag},
		Commands: []*cli.Command{
			statusCmd,
			healthzCmd,
			watchCmd,
			rotateCmd,
			syncCmd,
			reportStatusCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// status mirrors internal/control.Status's JSON shape without importing
// the daemon package, keeping the client independently buildable.
type status struct {
	ContactCount      int    `json:"contact_count"`
	ExposureCount     int    `json:"exposure_count"`
	ContactStatus     string `json:"contact_status"`
	Advice            string `json:"advice"`
	SelfStatus        string `json:"self_status"`
	LastStatusUpdate  string `json:"last_status_update,omitempty"`
	LastContactUpdate string `json:"last_contact_update,omitempty"`
	LastAdviceUpdate  string `json:"last_advice_update,omitempty"`
}

func client() *http.Client {
	return &http.Client{
		Timeout: 5 * time.Second,
		// The control plane presents a self-signed certificate generated
		// for local loopback use (see internal/control.ListenAndServeTLS);
		// there is no CA to verify against here.
		Transport: &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}, //nolint:gosec
	}
}

func fetchStatus(addr string) (status, error) {
	var s status
	resp, err := client().Get("https://" + addr + "/status")
	if err != nil {
		return s, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return s, fmt.Errorf("c19xctl: status %s: %s", resp.Status, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return s, fmt.Errorf("c19xctl: decoding status: %w", err)
	}
	return s, nil
}

var statusCmd = &cli.Command{
	Name:  "status",
	Usage: "print the current exposure/advice status once",
	Action: func(c *cli.Context) error {
		s, err := fetchStatus(c.String(addrFlag.Name))
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	},
}

var healthzCmd = &cli.Command{
	Name:  "healthz",
	Usage: "check daemon liveness",
	Action: func(c *cli.Context) error {
		resp, err := client().Get("https://" + c.String(addrFlag.Name) + "/healthz")
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("c19xctl: daemon unhealthy: %s", resp.Status)
		}
		fmt.Println("ok")
		return nil
	},
}

var watchCmd = &cli.Command{
	Name:  "watch",
	Usage: "poll status and print a live spinner until interrupted",
	Action: func(c *cli.Context) error {
		addr := c.String(addrFlag.Name)
		s := spinner.New(spinner.CharSets[9], refreshRate)
		s.PreUpdate = func(spin *spinner.Spinner) {
			st, err := fetchStatus(addr)
			if err != nil {
				spin.Suffix = fmt.Sprintf("  c19xctl: %v", err)
				return
			}
			spin.Suffix = fmt.Sprintf(
				"  contacts=%d exposures=%d status=%s advice=%s",
				st.ContactCount, st.ExposureCount, st.ContactStatus, st.Advice,
			)
		}
		s.Start()
		defer s.Stop()
		for {
			time.Sleep(refreshRate)
		}
	},
}

var rotateCmd = &cli.Command{
	Name:  "rotate",
	Usage: "force an out-of-band rotation tick",
	Action: func(c *cli.Context) error { return debugPost(c, "/debug/rotate") },
}

var syncCmd = &cli.Command{
	Name:  "sync",
	Usage: "force an out-of-band lookup sync",
	Action: func(c *cli.Context) error { return debugPost(c, "/debug/sync") },
}

var reportStatusCmd = &cli.Command{
	Name:      "report-status",
	Usage:     "report the user's self-reported health status",
	ArgsUsage: "normal|symptomatic|confirmed",
	Action: func(c *cli.Context) error {
		s := c.Args().First()
		switch s {
		case "normal", "symptomatic", "confirmed":
		default:
			return fmt.Errorf("c19xctl: unknown status %q, want normal|symptomatic|confirmed", s)
		}
		addr := c.String(addrFlag.Name)
		body := strings.NewReader(fmt.Sprintf(`{"status":%q}`, s))
		resp, err := client().Post("https://"+addr+"/debug/self-status", "application/json", body)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusAccepted {
			b, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("c19xctl: report-status: %s: %s", resp.Status, b)
		}
		fmt.Println("accepted")
		return nil
	},
}

func debugPost(c *cli.Context, path string) error {
	addr := c.String(addrFlag.Name)
	resp, err := client().Post("https://"+addr+path, "application/json", http.NoBody)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("c19xctl: %s: %s", path, resp.Status)
	}
	fmt.Println("accepted")
	return nil
}
