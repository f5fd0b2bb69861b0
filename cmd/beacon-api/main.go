package main

import (
	"fmt"
)

func main() {
	app := mustBootstrapBeaconAPI()
	defer app.Close()

	if err := app.Run(); err != nil && !isCanceled(err) {
		panic(fmt.Sprintf("beacon-api завершился с ошибкой: %v", err))
	}
}
