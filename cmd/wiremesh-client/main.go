package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gosuda/wiremesh/echo"
	"github.com/gosuda/wiremesh/wiremesh"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "wiremesh-client",
	Short: "Dial a wiremesh-server, echo one message, and exit",
	RunE:  runClient,
}

var (
	serverHost  string
	serverPort  int
	flagEncrypt bool
	message     string
	username    string
	password    string
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&serverHost, "host", "127.0.0.1", "server host")
	flags.IntVar(&serverPort, "port", 7070, "server port")
	flags.BoolVar(&flagEncrypt, "encrypt", true, "require the AES-256-GCM handshake")
	flags.StringVar(&message, "message", "hello", "payload to echo off the server")
	flags.StringVar(&username, "username", "", "username, if the server requires auth")
	flags.StringVar(&password, "password", "", "password, if the server requires auth")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func runClient(cmd *cobra.Command, args []string) error {
	auth := wiremesh.AuthConfig{Type: wiremesh.AuthNone}
	if username != "" {
		auth = wiremesh.AuthConfig{Type: wiremesh.AuthUserPassword, Username: username, Password: password}
	}

	client, err := wiremesh.Connect[*echo.Packet](
		wiremesh.Endpoint{Host: serverHost, Port: serverPort},
		wiremesh.ClientConfig[*echo.Packet]{
			Socket:     wiremesh.DefaultSocketConfig(),
			Encryption: wiremesh.EncryptionConfig{Enabled: flagEncrypt},
			KeepAlive:  wiremesh.DefaultKeepAliveConfig(),
			Auth:       auth,
			Reconnect:  wiremesh.DefaultReconnectionConfig(),
			NewPacket:  echo.New,
			OnBroadcast: func(pkt *echo.Packet) {
				fmt.Printf("broadcast: header=%s\n", pkt.Header())
			},
			OnReconnect: func(sessionID string) {
				fmt.Printf("reconnected: session=%s\n", sessionID)
			},
		},
	)
	if err != nil {
		return err
	}
	defer client.Close()

	fmt.Printf("connected: session=%s\n", client.SessionID())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	reply, err := client.Request(ctx, echo.New().WithPayload("ECHO", message))
	if err != nil {
		return err
	}
	fmt.Printf("reply: header=%s payload=%v\n", reply.Header(), reply.Body().Payload)
	return nil
}
