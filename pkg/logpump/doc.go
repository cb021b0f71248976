// Package logpump copies formatted log output to registered callbacks on
// a dedicated worker, so a slow consumer (a mirror file, a control client)
// never stalls the logger.
//
// # Usage
//
//	pump := logpump.New(0)
//	logger := zerolog.New(io.MultiWriter(console, pump))
//	pump.Subscribe(logpump.MirrorTo(mirrorFile))
//	launcher.Launch(ctx, launcher.Task{Name: "logpump", Body: pump.Run})
//	...
//	pump.Close()
//	<-pump.Done()
package logpump
