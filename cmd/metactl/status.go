package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the on-disk header and whether a committed snapshot exists, without mutating anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			od, snapStore, err := openDataDirReadOnly(dataDir)
			if err != nil {
				return err
			}
			defer od.Close()

			fmt.Printf("header: %s\n", od.Header())

			reader, found, err := snapStore.Newest()
			if err != nil {
				return err
			}
			if !found {
				fmt.Println("snapshot: none")
				return nil
			}
			defer reader.Close()
			fmt.Println("snapshot: present")
			return nil
		},
	}
}
