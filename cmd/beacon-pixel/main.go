package main

import (
	"fmt"
)

func main() {
	app := mustBootstrapBeaconPixel()
	defer app.Close()

	if err := app.Run(); err != nil && !isCanceled(err) {
		panic(fmt.Sprintf("beacon-pixel завершился с ошибкой: %v", err))
	}
}
