package main

import (
	"fmt"

	"github.com/weaveflow/weaveflow/internal/buildinfo"
)

func main() {
	info := buildinfo.GetInfo()
	fmt.Println(info.String())
}
