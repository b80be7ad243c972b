package dmm_test

import (
	"context"
	"fmt"
	"time"

	"github.com/Station-Manager/dmm"
	"github.com/Station-Manager/types"
)

func Example() {
	cfg := &dmm.SessionConfig{
		Serial: types.SerialConfig{
			PortName: "/dev/ttyUSB0",
			BaudRate: 9600,
			DataBits: 8,
		},
	}

	session, err := dmm.NewSession(cfg)
	if err != nil {
		fmt.Println("session error:", err)
		return
	}

	if err := session.Connect(); err != nil {
		fmt.Println("connect error:", err)
		return
	}
	defer session.Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	id, err := session.ReadIdentity(ctx)
	if err != nil {
		fmt.Println("identity error:", err)
		return
	}

	fmt.Println("instrument:", id)
}
