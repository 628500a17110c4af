package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/PowerDNS/perfagent/delivery"
	"github.com/PowerDNS/perfagent/delivery/transport"
	"github.com/PowerDNS/perfagent/utils"
)

// TestEvent is the event name of the test envelope.
const TestEvent = "agent.test"

var dryRun bool

func init() {
	rootCmd.AddCommand(testCmd)
	testCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the envelope instead of sending it")
}

func runTest() error {
	opt := delivery.Options{Logger: logrus.StandardLogger()}
	var mem *transport.Memory
	if dryRun {
		mem = transport.NewMemory()
		opt.Transport = mem
	}
	client, err := delivery.New(conf, opt)
	if err != nil {
		return err
	}

	payload := map[string]any{
		"message": "perfagent test envelope",
		"version": version,
	}
	if hostname, err := os.Hostname(); err == nil {
		payload["hostname"] = hostname
	}

	t0 := time.Now()
	if !client.Deliver(delivery.Message{Event: TestEvent, Payload: payload}, true) {
		reason := "unknown"
		if skip, ok := client.Events().Skipped.Last(); ok {
			reason = skip.Reason
		}
		return fmt.Errorf("test envelope not sent: %s", reason)
	}
	client.Wait()
	dt := utils.TimeDiff(time.Now(), t0)

	r, ok := client.Events().Delivered.Last()
	if !ok {
		return errors.New("no delivery result")
	}
	if r.Err != nil {
		return errors.Wrap(r.Err, "deliver test envelope")
	}

	if mem != nil {
		for _, env := range mem.Envelopes() {
			out, err := json.MarshalIndent(env, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
		}
		return nil
	}
	logrus.WithFields(logrus.Fields{
		"endpoint": conf.Endpoint,
		"revision": client.Revision(),
		"duration": dt,
	}).Info("Test envelope delivered")
	return nil
}

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Send a test envelope through the delivery pipeline",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runTest(); err != nil {
			logrus.WithError(err).Fatal("Test failed")
		}
	},
}
