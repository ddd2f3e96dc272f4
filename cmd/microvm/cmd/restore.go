/*
Copyright © 2025 blacktop

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/blacktop/go-microvm"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(restoreCmd)
	restoreCmd.Flags().String("descriptor", "", "path to the JSON memory-state descriptor")
	restoreCmd.Flags().String("image", "", "path to the dumped memory image")
	restoreCmd.Flags().Bool("private", false, "create the VM with KVM_X86_SW_PROTECTED_VM")
	restoreCmd.MarkFlagRequired("descriptor")
	restoreCmd.MarkFlagRequired("image")
}

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Rebuild regions from a memory-state descriptor and register them with a VM",
	RunE: func(cmd *cobra.Command, args []string) error {
		descPath, _ := cmd.Flags().GetString("descriptor")
		imagePath, _ := cmd.Flags().GetString("image")
		private, _ := cmd.Flags().GetBool("private")

		body, err := os.ReadFile(descPath)
		if err != nil {
			return fmt.Errorf("read descriptor: %w", err)
		}
		var state guestmem.MemoryState
		if err := json.Unmarshal(body, &state); err != nil {
			return fmt.Errorf("unmarshal descriptor: %w", err)
		}

		imageFile, err := os.Open(imagePath)
		if err != nil {
			return fmt.Errorf("open image: %w", err)
		}
		defer imageFile.Close()

		vm, err := guestmem.NewVM(guestmem.VMOptions{Private: private})
		if err != nil {
			return fmt.Errorf("create vm: %w", err)
		}
		defer vm.Close()

		if err := guestmem.Restore(vm, state, imageFile, guestmem.HugeNone); err != nil {
			return fmt.Errorf("restore: %w", err)
		}

		fmt.Printf("restored %d regions, %d memory slots in use\n", len(state.Regions), vm.Memory().Len())
		return nil
	},
}
