package main

import "os"

func main() {
	InitFlag()
	InitSafeExit()
	InitConf(configPath)
	InitLog()
	InitLedger()

	var err error
	if listOrphans {
		err = printOrphans(os.Stdout)
	} else {
		InitMetrics()
		err = InitTask()
	}
	SafeExitInst.Cleanup()
	if err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
