package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

func confirm(question string) bool {
	fmt.Printf("%s [y/N]: ", question)
	answer, err := readLine()
	if err != nil {
		return false
	}
	answer = strings.ToLower(answer)
	return answer == "y" || answer == "yes"
}

func readLine() (string, error) {
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
