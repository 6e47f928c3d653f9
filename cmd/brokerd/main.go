// Command brokerd runs the AMQP 0-9-1 broker as a standalone process.
package main

import (
	"github.com/architeacher/amqp-broker/internal/runtime"
)

func main() {
	runtime.New().Run()
}
